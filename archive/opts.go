package archive

import (
	"crypto/rsa"
	"log/slog"

	"github.com/nocturne-engine/pakvfs/internal/arena"
	"github.com/nocturne-engine/pakvfs/internal/blockcache"
	"github.com/nocturne-engine/pakvfs/internal/cdr"
)

// Option configures Open/OpenRW, mirroring the teacher's functional-options
// convention (blob_opts.go/create_opts.go).
type Option func(*config)

type config struct {
	mode            cdr.InitMode
	variant         cdr.DirVariant
	requireEncrypt  bool
	verifyCRC       bool
	clearCRCOnOK    bool
	dontCompact     bool
	trustedKey      *rsa.PrivateKey
	policy          func(cdrBytes []byte, archiveBaseName string, sig []byte) error
	arena           *arena.Arena
	logger          *slog.Logger
	blockCache      *blockcache.Cache
}

func defaultConfig() config {
	return config{
		mode:      cdr.ModeFast,
		variant:   cdr.DirVariantHash,
		verifyCRC: true,
	}
}

// WithInitMode selects how thoroughly CacheFactory validates entries while
// opening (FAST/FULL/VALIDATE, §4.4).
func WithInitMode(mode cdr.InitMode) Option {
	return func(c *config) { c.mode = mode }
}

// WithDirVariant selects the tree or flat-hash directory representation
// (§3 "two shapes").
func WithDirVariant(v cdr.DirVariant) Option {
	return func(c *config) { c.variant = v }
}

// WithRequireEncryption rejects any entry that is not marked encrypted
// (invariant 5, release-build policy).
func WithRequireEncryption(require bool) Option {
	return func(c *config) { c.requireEncrypt = require }
}

// WithVerifyCRC controls whether Cache.Read recomputes and checks CRC32
// after decompression (§4.5 step 9). Enabled by default.
func WithVerifyCRC(verify bool) Option {
	return func(c *config) { c.verifyCRC = verify }
}

// WithDontCompact disables the automatic relink-on-close CacheRW otherwise
// performs when the archive is dirty (§4.6 "close semantics").
func WithDontCompact(dontCompact bool) Option {
	return func(c *config) { c.dontCompact = dontCompact }
}

// WithTrustedKey supplies the RSA private key used to unwrap a
// STREAMCIPHER_KEYTABLE archive's embedded IV and key table (§4.4 step 3).
func WithTrustedKey(key *rsa.PrivateKey) Option {
	return func(c *config) { c.trustedKey = key }
}

// WithPolicy installs a signed-CDR verifier consulted before the factory
// returns a Cache (§4.10); see policy.Policy for the interface most callers
// should use to build this function.
func WithPolicy(verify func(cdrBytes []byte, archiveBaseName string, sig []byte) error) Option {
	return func(c *config) { c.policy = verify }
}

// WithArena supplies a shared Arena instead of each Cache allocating its
// own (the data model specifies "the Arena is a single process-wide
// resource shared by all caches").
func WithArena(a *arena.Arena) Option {
	return func(c *config) { c.arena = a }
}

// WithLogger sets the structured logger used for open/relink/fallback
// diagnostics. Defaults to a discard logger, matching the teacher's
// create.go w.log() fallback.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithBlockCache routes every raw read through cache's sector-cached
// ByteSource instead of reading the cursor directly (§4.9): meant for
// mounts the caller flags ON_REMOVABLE_MEDIA or SLOW_BACKING_STORE, never
// for an in-memory archive, which has nothing slow to shield.
func WithBlockCache(cache *blockcache.Cache) Option {
	return func(c *config) { c.blockCache = cache }
}

func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}
