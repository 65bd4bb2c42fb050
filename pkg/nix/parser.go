// pkg/nix/parser.go
package nix

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseNARInfo parses a .narinfo file
func ParseNARInfo(r io.Reader) (*NARInfo, error) {
	info := &NARInfo{}
	sc := bufio.NewScanner(r)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "StorePath":
			info.StorePath = value
		case "URL":
			info.URL = value
		case "Compression":
			info.Compression = value
		case "FileHash":
			info.FileHash = value
		case "FileSize":
			info.FileSize, err = strconv.ParseInt(value, 10, 64)
		case "NarHash":
			info.NarHash = value
		case "NarSize":
			info.NarSize, err = strconv.ParseInt(value, 10, 64)
		case "References":
			info.References = strings.Fields(value)
		case "Deriver":
			if value != "unknown-deriver" {
				info.Deriver = value
			}
		case "Sig":
			info.Signatures = append(info.Signatures, value)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s in narinfo: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading narinfo: %w", err)
	}

	if info.StorePath == "" {
		return nil, fmt.Errorf("missing StorePath in narinfo")
	}
	if info.URL == "" {
		return nil, fmt.Errorf("missing URL in narinfo for %s", info.StorePath)
	}
	if info.Compression == "" {
		info.Compression = CompressionBZip2
	}

	return info, nil
}
