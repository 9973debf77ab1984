package archive

import (
	"path/filepath"

	"github.com/nocturne-engine/pakvfs/internal/arena"
	"github.com/nocturne-engine/pakvfs/internal/cdr"
	"github.com/nocturne-engine/pakvfs/internal/dirdata"
	"github.com/nocturne-engine/pakvfs/internal/zipfile"
)

// Open runs CacheFactory (§4.4) against the archive at path and returns a
// read-only Cache with an initial refcount of 1.
func Open(path string, opts ...Option) (*Cache, error) {
	cur, err := zipfile.Open(path)
	if err != nil {
		return nil, err
	}
	return build(cur, filepath.Base(path), opts)
}

// OpenMemory runs CacheFactory against an already-loaded archive block.
func OpenMemory(data []byte, archiveBaseName string, opts ...Option) (*Cache, error) {
	cur, err := zipfile.WrapMemory(data)
	if err != nil {
		return nil, err
	}
	return build(cur, archiveBaseName, opts)
}

func build(cur *zipfile.Cursor, archiveBaseName string, opts []Option) (*Cache, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	res, err := cdr.Open(cur, archiveBaseName, cdr.Options{
		Mode:       cfg.mode,
		Variant:    cfg.variant,
		TrustedKey: cfg.trustedKey,
		Policy:     cfg.policy,
	})
	if err != nil {
		_ = cur.Close()
		return nil, err
	}

	var dir Directory
	if res.HashDir != nil {
		dir = res.HashDir
	} else {
		dir = treeDirectory{d: dirdata.LoadTree(res.TreeBlob)}
	}

	a := cfg.arena
	if a == nil {
		a = arena.New()
	}

	c := &Cache{
		archiveName:       archiveBaseName,
		cursor:            cur,
		dir:               dir,
		arena:             a,
		decoderPool:       arena.NewFlateDecoderPool(),
		encKind:           res.Extended.EncryptionKind,
		sigKind:           res.Extended.SignatureKind,
		keyTable:          res.KeyTable,
		requireEncryption: cfg.requireEncrypt,
		verifyCRC:         cfg.verifyCRC,
		clearCRCOnOK:      cfg.clearCRCOnOK,
	}
	if cfg.blockCache != nil && !cur.InMemory() {
		wrapped, err := cfg.blockCache.Wrap(archiveBaseName, cur)
		if err != nil {
			_ = cur.Close()
			return nil, err
		}
		c.blockSrc = wrapped
	}
	c.Retain()
	cfg.log().Info("archive opened", "archive", archiveBaseName, "entries", len(res.Entries), "mode", cfg.mode, "variant", cfg.variant)
	return c, nil
}
