// Package all registers every storage engine shipped with edb.
//
//	import _ "github.com/ValentinKolb/edb/lib/persistence/engines/all"
package all

import (
	_ "github.com/ValentinKolb/edb/lib/persistence/engines/maple"
	_ "github.com/ValentinKolb/edb/lib/persistence/engines/pebble"
	_ "github.com/ValentinKolb/edb/lib/persistence/engines/sqlite"
)
