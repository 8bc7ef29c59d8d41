/*
Package dbi stores records under integer ids.

The lowest layer is a Mapping from an id to a single line string payload.
Ids are allocated by Add, counting up from 1, and are never reused even
after a record is removed. There are 2 implementations:

  - FlatFile: a human-readable text file, one record per line, edited in
    place. Removed records are compacted away by Vacuum and Close
  - PebbleMapping: a pebble key-value database, for larger stores

On top of a Mapping, DB stores records of a Schema: a list of named fields,
each with a parser, a formatter and a default value. A record is stored as
a single CSV line.

	schema := dbi.MustSchema(
		dbi.StringField("text", ""),
		dbi.StringField("author", "unknown"),
		dbi.IntField("votes", 0),
	)
	db, err := dbi.OpenDB("quotes.txt", schema, nil)
	if err != nil {
		return err
	}
	defer db.Close()
	r := schema.NewRecord()
	r.Set("text", "Simplicity is prerequisite for reliability.")
	id, err := db.Add(r)

A Mapping is meant to have a single writer. Synchronized and Registry
share one between goroutines of a process.
*/
package dbi
