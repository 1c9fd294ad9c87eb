package icsdoc

import (
	"context"
	"strings"
)

// Parse fills into from src and returns it.
//
// BEGIN:<type> opens a nested Document that is appended to into[<type>];
// END (whatever its value) closes the current level. Lines without a ':'
// are skipped and other keys overwrite earlier values at the same level.
// Running out of lines closes every open level, so Parse never fails: a
// malformed feed yields a partial Document.
func Parse(into Document, src *Source) Document {
	for {
		line, ok := src.Next()
		if !ok {
			return into
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}

		switch key {
		case "BEGIN":
			// A scalar under the same name is replaced by the block sequence.
			blocks, _ := into[value].([]Document)
			if blocks == nil {
				blocks = []Document{}
			}
			into[value] = blocks

			child := Parse(Document{}, src)
			into[value] = append(blocks, child)
		case "END":
			return into
		default:
			into[key] = value
		}
	}
}

// Read opens o and parses it into a fresh Document.
func Read(ctx context.Context, o Origin) (Document, error) {
	src, err := Open(ctx, o)
	if err != nil {
		return nil, err
	}
	return Parse(Document{}, src), nil
}

// FromWeb fetches url with an optional pre-encoded basic auth token.
func FromWeb(ctx context.Context, url, auth string) (Document, error) {
	return Read(ctx, Origin{Kind: OriginWeb, URL: url, Auth: auth})
}

// FromFile parses the file at path.
func FromFile(path string) (Document, error) {
	return Read(context.Background(), Origin{Kind: OriginFile, Path: path})
}

// FromText parses literal text.
func FromText(text string) Document {
	return Parse(Document{}, NewTextSource(text))
}
