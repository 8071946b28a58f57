package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// UnknownBrightness is stored when no backlight can be read.
const UnknownBrightness int64 = -1

// ReadBrightness returns the display brightness of the first backlight
// device as a percentage of its maximum.
func ReadBrightness() (int64, error) {
	matches, err := filepath.Glob(filepath.Join(sysfsRoot, "class/backlight/*"))
	if err != nil {
		return UnknownBrightness, fmt.Errorf("glob backlight: %w", err)
	}
	if len(matches) == 0 {
		return UnknownBrightness, fmt.Errorf("no backlight found")
	}

	dir := matches[0]
	brightness, err := readIntFile(filepath.Join(dir, "brightness"))
	if err != nil {
		return UnknownBrightness, fmt.Errorf("read brightness: %w", err)
	}
	maxBrightness, err := readIntFile(filepath.Join(dir, "max_brightness"))
	if err != nil {
		return UnknownBrightness, fmt.Errorf("read max_brightness: %w", err)
	}
	if maxBrightness <= 0 {
		return UnknownBrightness, fmt.Errorf("max_brightness is %d", maxBrightness)
	}

	return min(brightness*100/maxBrightness, 100), nil
}

func readIntFile(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
