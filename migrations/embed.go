package migrations

import (
	"embed"
	"io/fs"
)

// Migration loaders that don't recurse into subdirectories get a
// sub-filesystem rooted at "postgres/".
//
//go:embed postgres/*.sql
var postgresFS embed.FS

var Postgres fs.FS = mustSubFS(postgresFS, "postgres")

func mustSubFS(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
