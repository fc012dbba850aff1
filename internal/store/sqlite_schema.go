package store

// CurrentSchemaVersion is the last migration InitSchema knows about. Older
// databases are wiped on open.
const CurrentSchemaVersion = 2

const WorkspaceSchema = `
CREATE TABLE IF NOT EXISTS workspaces (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dump_files (
    id TEXT PRIMARY KEY,
    workspace TEXT NOT NULL,
    path TEXT NOT NULL,
    file_type TEXT NOT NULL,
    captured_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_dump_files_workspace ON dump_files(workspace, file_type);
`

const ThreadSchema = `
CREATE TABLE IF NOT EXISTS thread_info (
    id TEXT PRIMARY KEY,
    workspace TEXT NOT NULL,
    file_id TEXT NOT NULL,
    thread_id TEXT NOT NULL,
    thread_name TEXT NOT NULL,
    daemon INTEGER NOT NULL,
    prio INTEGER,
    os_prio INTEGER NOT NULL,
    tid INTEGER NOT NULL,
    nid INTEGER NOT NULL,
    address TEXT NOT NULL,
    thread_status TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    method_name TEXT NOT NULL,
    stack_codes BLOB
);
CREATE INDEX IF NOT EXISTS idx_thread_info_file ON thread_info(workspace, file_id);
CREATE INDEX IF NOT EXISTS idx_thread_info_status ON thread_info(workspace, thread_status);

CREATE TABLE IF NOT EXISTS thread_stack (
    id TEXT PRIMARY KEY,
    workspace TEXT NOT NULL,
    thread_id TEXT NOT NULL,
    depth INTEGER NOT NULL,
    class_name TEXT NOT NULL,
    method_name TEXT NOT NULL,
    method_line INTEGER NOT NULL,
    stack_status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_thread_stack_thread ON thread_stack(workspace, thread_id, depth);

CREATE TABLE IF NOT EXISTS dictionary (
    workspace TEXT NOT NULL,
    code INTEGER NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (workspace, code)
) WITHOUT ROWID;
`

const MethodIndexSchema = `
CREATE TABLE IF NOT EXISTS method_names (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workspace TEXT NOT NULL,
    name TEXT NOT NULL,
    UNIQUE (workspace, name)
);

CREATE VIRTUAL TABLE IF NOT EXISTS method_names_fts USING fts5(
    name,
    content='method_names',
    content_rowid='id',
    tokenize='trigram'
);

CREATE TRIGGER IF NOT EXISTS method_names_ai AFTER INSERT ON method_names BEGIN
  INSERT INTO method_names_fts(rowid, name) VALUES (new.id, new.name);
END;
CREATE TRIGGER IF NOT EXISTS method_names_ad AFTER DELETE ON method_names BEGIN
  INSERT INTO method_names_fts(method_names_fts, rowid, name) VALUES('delete', old.id, old.name);
END;
CREATE TRIGGER IF NOT EXISTS method_names_au AFTER UPDATE ON method_names BEGIN
  INSERT INTO method_names_fts(method_names_fts, rowid, name) VALUES('delete', old.id, old.name);
  INSERT INTO method_names_fts(rowid, name) VALUES (new.id, new.name);
END;
`

const SchemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

const MetadataTable = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT
);
`
