package whatsapp

import (
	"database/sql"

	"modernc.org/sqlite"
)

// The device store asks for the mattn driver name; alias the CGo-free
// driver under it.
func init() {
	sql.Register("sqlite3", &sqlite.Driver{})
}
