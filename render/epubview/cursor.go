package epubview

import (
	"fmt"
	"strings"
)

// FormatCursor returns position token for character offset within spine page.
func FormatCursor(page, offset int) string {
	return fmt.Sprintf("epubcfi(/6/%d!/4:%d)", (page+1)*2, offset)
}

// ParseCursor is reverse of FormatCursor.
func ParseCursor(cursor string) (page, offset int, err error) {
	var step int
	if !strings.HasPrefix(cursor, "epubcfi(") || !strings.HasSuffix(cursor, ")") {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	if _, err := fmt.Sscanf(cursor, "epubcfi(/6/%d!/4:%d)", &step, &offset); err != nil {
		return 0, 0, fmt.Errorf("malformed cursor %q: %w", cursor, err)
	}
	if step < 2 || step%2 != 0 || offset < 0 {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	return step/2 - 1, offset, nil
}
