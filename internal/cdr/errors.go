package cdr

import (
	"fmt"

	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

func errTruncatedTrailer(what string) error {
	return pakerr.New(pakerr.KindDataCorrupt, "parse trailer", what)
}

func errf(kind pakerr.Kind, op string, format string, args ...any) error {
	return pakerr.Wrap(kind, op, "", fmt.Errorf(format, args...))
}
