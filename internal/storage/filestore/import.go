package filestore

import (
	"context"
	"os"
	"time"

	"github.com/sonroyaalmerol/gitdav/internal/item"
	"github.com/sonroyaalmerol/gitdav/internal/storage"
	pkgical "github.com/sonroyaalmerol/gitdav/pkg/ical"
	pkgvcard "github.com/sonroyaalmerol/gitdav/pkg/vcard"
)

const importAgent = "gitdav import"

// ImportFile loads path, which may hold several calendars or cards. Every
// object becomes its own item; an item with the same identity is updated in
// place. Failures are logged and reported as false.
func (c *Collection) ImportFile(ctx context.Context, path string, user string) bool {
	info, err := os.Stat(path)
	if err != nil {
		c.logger.Error().Err(err).Str("file", path).Msg("import read failed")
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Error().Err(err).Str("file", path).Msg("import read failed")
		return false
	}
	parts, err := splitObjects(data, c.encoding, info.ModTime())
	if err != nil {
		c.logger.Error().Err(err).Str("file", path).Msg("import parse failed")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	mc := storage.MutationContext{User: user, UserAgent: importAgent}
	for _, part := range parts {
		if err := c.importOne(ctx, part, mc); err != nil {
			c.logger.Error().Err(err).Str("file", path).Msg("import failed")
			return false
		}
	}
	c.logger.Info().Str("file", path).Int("objects", len(parts)).Msg("import complete")
	return true
}

func (c *Collection) importOne(ctx context.Context, data []byte, mc storage.MutationContext) error {
	incoming, err := item.Parse(data, "", "")
	if err != nil {
		return err
	}
	if err := c.freshen(false); err != nil {
		return err
	}
	if old, ok := c.items[incoming.Name()]; ok {
		if old.ETag() == incoming.ETag() {
			return nil
		}
		it, err := item.Parse(data, incoming.Name(), old.Path())
		if err != nil {
			return err
		}
		if err := writeFileAtomic(old.Path(), it.Serialize(), false); err != nil {
			return err
		}
		delete(c.files, old.Path())
		delete(c.byPath, old.Path())
		_, err = c.commitAndReload(ctx, old.Path(), it.Name(), mc.WithAction(storage.ActionModify))
		return err
	}
	_, err = c.append(ctx, "", data, mc)
	return err
}

// splitObjects cuts an import file into one serialized object per item.
// Missing DTSTAMPs are set to stamp so that importing the same file twice
// yields the same bytes.
func splitObjects(data []byte, charset string, stamp time.Time) ([][]byte, error) {
	text := item.StripControl(item.Decode(data, charset))

	if pkgvcard.IsVCard(text) {
		cards, err := pkgvcard.DecodeAll([]byte(text))
		if err != nil {
			return nil, err
		}
		out := make([][]byte, 0, len(cards))
		for _, card := range cards {
			pkgvcard.EnsureRequired(card)
			b, err := pkgvcard.Encode(card)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, nil
	}

	cals, err := pkgical.DecodeAll([]byte(pkgical.WrapBare(text)))
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, cal := range cals {
		for _, part := range pkgical.Split(cal) {
			pkgical.EnsureRequired(part, stamp)
			b, err := pkgical.Encode(part)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
	}
	return out, nil
}
