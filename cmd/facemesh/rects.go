package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/facemesh/internal/vision"
)

// rectList is a repeatable -rect flag. Each value is
// "x_center,y_center,width,height[,rotation]" in normalized image
// coordinates with rotation in radians.
type rectList []vision.NormalizedRect

func (r *rectList) String() string {
	if r == nil {
		return ""
	}
	parts := make([]string, len(*r))
	for i, rect := range *r {
		parts[i] = formatRect(rect)
	}
	return strings.Join(parts, " ")
}

func (r *rectList) Set(s string) error {
	rect, err := parseRect(s)
	if err != nil {
		return err
	}
	*r = append(*r, rect)
	return nil
}

func parseRect(s string) (vision.NormalizedRect, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 && len(fields) != 5 {
		return vision.NormalizedRect{}, fmt.Errorf("rect %q: want x,y,w,h[,rotation], got %d values", s, len(fields))
	}
	vals := make([]float32, 5)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return vision.NormalizedRect{}, fmt.Errorf("rect %q: value %d: %w", s, i+1, err)
		}
		vals[i] = float32(v)
	}
	rect := vision.NormalizedRect{XCenter: vals[0], YCenter: vals[1], Width: vals[2], Height: vals[3], Rotation: vals[4]}
	if rect.Width <= 0 || rect.Height <= 0 {
		return vision.NormalizedRect{}, fmt.Errorf("rect %q: width and height must be positive", s)
	}
	return rect, nil
}

func formatRect(r vision.NormalizedRect) string {
	s := fmt.Sprintf("%g,%g,%g,%g", r.XCenter, r.YCenter, r.Width, r.Height)
	if r.Rotation != 0 {
		s += fmt.Sprintf(",%g", r.Rotation)
	}
	return s
}
