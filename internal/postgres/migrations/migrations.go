package migrations

import "embed"

// FS holds the SQL migrations, applied in the order listed by Files.
//
//go:embed *.sql
var FS embed.FS

// Files is the ordered list of migrations in FS.
var Files = []string{
	"001_create_delegate_tasks.sql",
	"002_create_delegates.sql",
	"003_create_delegate_capacities.sql",
	"004_rebroadcast_scan_keyset.sql",
}
