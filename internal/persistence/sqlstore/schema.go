package sqlstore

type columnKind int

const (
	kindText columnKind = iota
	kindBool
	kindInt
	kindJSON
)

type column struct {
	name string
	kind columnKind
}

type table struct {
	name    string
	columns []column
}

func (t table) column(name string) (column, bool) {
	for _, c := range t.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

func (t table) columnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

var tables = map[string]table{
	"rooms": {
		name: "rooms",
		columns: []column{
			{"id", kindText},
			{"name", kindText},
			{"description", kindText},
			{"capacity", kindInt},
			{"created_at", kindText},
		},
	},
	"bookings": {
		name: "bookings",
		columns: []column{
			{"id", kindText},
			{"room_id", kindText},
			{"user_id", kindText},
			{"title", kindText},
			{"description", kindText},
			{"start_time", kindText},
			{"end_time", kindText},
			{"is_recurring", kindBool},
			{"recurrence_pattern", kindJSON},
			{"authorizer", kindText},
			{"created_at", kindText},
		},
	},
}

// overlapMessage is raised by the insert trigger and recognised by mapError.
const overlapMessage = "booking overlap"

var sqliteMigrations = []migration{
	{
		version:     "001",
		description: "create rooms",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS rooms (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT,
				capacity INTEGER,
				created_at TEXT NOT NULL
			)`,
		},
	},
	{
		version:     "002",
		description: "create bookings",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS bookings (
				id TEXT PRIMARY KEY,
				room_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT,
				start_time TEXT NOT NULL,
				end_time TEXT NOT NULL,
				is_recurring INTEGER NOT NULL DEFAULT 0,
				recurrence_pattern TEXT,
				authorizer TEXT,
				created_at TEXT NOT NULL,
				CHECK (end_time > start_time)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_bookings_room_window ON bookings (room_id, start_time, end_time)`,
		},
	},
	{
		version:     "003",
		description: "reject overlapping bookings",
		statements: []string{
			`CREATE TRIGGER IF NOT EXISTS bookings_no_overlap
			BEFORE INSERT ON bookings
			WHEN EXISTS (
				SELECT 1 FROM bookings b
				WHERE b.room_id = NEW.room_id
				  AND b.start_time < NEW.end_time
				  AND b.end_time > NEW.start_time
			)
			BEGIN
				SELECT RAISE(ABORT, '` + overlapMessage + `');
			END`,
		},
	},
}

var mysqlMigrations = []migration{
	{
		version:     "001",
		description: "create rooms",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS rooms (
				id VARCHAR(64) NOT NULL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NULL,
				capacity INT NULL,
				created_at VARCHAR(24) NOT NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
	{
		version:     "002",
		description: "create bookings",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS bookings (
				id VARCHAR(64) NOT NULL PRIMARY KEY,
				room_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				title VARCHAR(255) NOT NULL,
				description TEXT NULL,
				start_time VARCHAR(24) NOT NULL,
				end_time VARCHAR(24) NOT NULL,
				is_recurring TINYINT(1) NOT NULL DEFAULT 0,
				recurrence_pattern JSON NULL,
				authorizer VARCHAR(255) NULL,
				created_at VARCHAR(24) NOT NULL,
				INDEX idx_bookings_room_window (room_id, start_time, end_time),
				CONSTRAINT chk_bookings_window CHECK (end_time > start_time)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
	{
		version:     "003",
		description: "reject overlapping bookings",
		statements: []string{
			`DROP TRIGGER IF EXISTS bookings_no_overlap`,
			`CREATE TRIGGER bookings_no_overlap BEFORE INSERT ON bookings
			FOR EACH ROW
			BEGIN
				IF EXISTS (
					SELECT 1 FROM bookings b
					WHERE b.room_id = NEW.room_id
					  AND b.start_time < NEW.end_time
					  AND b.end_time > NEW.start_time
				) THEN
					SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = '` + overlapMessage + `';
				END IF;
			END`,
		},
	},
}

