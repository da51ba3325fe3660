// This file implements the G-code and GRBL system command lines that can be
// written to a GRBL 1.1 controller running in laser mode ($32=1).

package gcode

import (
	"strconv"
	"strings"
)

// Realtime commands are single bytes picked out of the stream by GRBL as soon
// as they arrive. They are never acknowledged.
const (
	FeedHold  byte = '!'
	SoftReset byte = 0x18
)

// formats a coordinate or feed with a fixed four decimals
func fixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// formats a value with as few digits as represent it exactly
func short(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Sets units to millimetres.
func Units() string {
	return "G21"
}

// Switches to absolute positioning.
func Absolute() string {
	return "G90"
}

// Switches to relative positioning.
func Relative() string {
	return "G91"
}

// Makes the current position the work origin.
func SetOrigin() string {
	return "G92 X0 Y0"
}

// Clears any G92 work offset.
func ClearOrigin() string {
	return "G92.1"
}

// Rapid move in machine coordinates, ignoring every work offset.
func MachineRapid(x, y float64) string {
	return "G53 G0 X" + short(x) + " Y" + short(y)
}

// Rapid move, laser off.
func Rapid(x, y float64) string {
	return "G0 X" + fixed(x) + " Y" + fixed(y)
}

// Linear move at the current feed rate.
func Linear(x, y float64) string {
	return "G1 X" + fixed(x) + " Y" + fixed(y)
}

// Linear move by (dx, dy) at feed, meant for relative mode. Axes that don't
// move are left out; if neither moves the result is empty.
func RelativeMove(dx, dy, feed float64) string {
	parts := []string{"G1"}
	if dx != 0 {
		parts = append(parts, "X"+short(dx))
	}
	if dy != 0 {
		parts = append(parts, "Y"+short(dy))
	}
	if len(parts) == 1 {
		return ""
	}
	parts = append(parts, "F"+short(feed))
	return strings.Join(parts, " ")
}

func Feed(f float64) string {
	return "F" + fixed(f)
}

// Dynamic laser power: GRBL scales the power with the actual speed so
// acceleration doesn't darken the ends of a move.
func LaserOn(power int) string {
	return "M4 S" + strconv.Itoa(power)
}

func LaserOff() string {
	return "M5"
}

// Clears an alarm lock.
func Unlock() string {
	return "$X"
}

// Runs the homing cycle.
func Home() string {
	return "$H"
}

func Comment(s string) string {
	return ";; " + s
}

// IsComment reports whether a line carries nothing for the controller: blank
// lines and ';' comments are never transmitted.
func IsComment(line string) bool {
	t := strings.TrimSpace(line)
	return t == "" || strings.HasPrefix(t, ";")
}
