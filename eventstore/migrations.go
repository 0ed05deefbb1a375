package eventstore

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS new_mail_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account     TEXT    NOT NULL,
	folder      TEXT    NOT NULL DEFAULT 'INBOX',
	count       INTEGER NOT NULL,
	previous    INTEGER NOT NULL,
	received_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_new_mail_events_account
	ON new_mail_events (account, received_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
