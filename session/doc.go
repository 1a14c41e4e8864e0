// Package session is the database side of facetcache: the Session contract
// the unit of work engine executes statements through, the Statement value it
// queues, and a small table statement builder.
//
// The engine treats statements as opaque. The only things it reads are the
// schema a statement touches, whether it is a mutation, and whether it is
// conditional. Arguments equal to BatchTimestamp are replaced with the logical
// timestamp of the batch at commit.
//
// Open returns a Session backed by bun over sqlite3, mysql or postgres:
//
//	db, err := session.Open(session.Config{Driver: "sqlite3", DSN: "file:app.db"}, log)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
package session
