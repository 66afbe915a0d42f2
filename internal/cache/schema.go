package cache

// Schema contains SQL schema definitions for the cache
const Schema = `
-- Messages fetched from remote mailboxes, keyed per user
CREATE TABLE IF NOT EXISTS messages (
    rowid_alias INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    mailbox TEXT NOT NULL,
    sender TEXT,
    recipients TEXT,
    subject TEXT,
    body TEXT,
    status TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    sent_at DATETIME,
    cached_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, message_id)
);

-- Resolved "Sent" mailbox path per user
CREATE TABLE IF NOT EXISTS sent_mailboxes (
    user_id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    resolved_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_mailbox ON messages(user_id, mailbox);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);

-- Full-text search index
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    subject,
    sender,
    body,
    content='messages',
    content_rowid='rowid_alias'
);

-- Triggers for FTS
CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, subject, sender, body)
    VALUES (new.rowid_alias, new.subject, new.sender, new.body);
END;

-- External-content FTS5 tables are maintained with the 'delete' command
-- form: remove the old tokens, then index the new row.
CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, subject, sender, body)
    VALUES ('delete', old.rowid_alias, old.subject, old.sender, old.body);
    INSERT INTO messages_fts(rowid, subject, sender, body)
    VALUES (new.rowid_alias, new.subject, new.sender, new.body);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, subject, sender, body)
    VALUES ('delete', old.rowid_alias, old.subject, old.sender, old.body);
END;
`
