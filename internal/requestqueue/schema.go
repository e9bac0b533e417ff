package requestqueue

// ddl is applied on every connection open. CREATE TABLE/INDEX/TRIGGER are
// all written IF NOT EXISTS so repeated application against an existing
// file is a no-op, matching spec.md §4.2's "idempotent" requirement.
//
// requests.order_no doubles as the lock-state field (spec.md §4.5): NULL
// means handled, a non-null value encodes both sort order (sign) and lock
// expiry (magnitude). The partial index below excludes NULL rows so a head
// scan never touches handled requests.
const ddl = `
CREATE TABLE IF NOT EXISTS queues (
	id                    INTEGER PRIMARY KEY CHECK (id = 1),
	name                  TEXT    NOT NULL UNIQUE,
	created_at            TEXT    NOT NULL,
	modified_at           TEXT    NOT NULL,
	accessed_at           TEXT    NOT NULL,
	total_request_count   INTEGER NOT NULL DEFAULT 0,
	handled_request_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS requests (
	queue_id    INTEGER NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
	id          TEXT    NOT NULL,
	order_no    INTEGER,
	url         TEXT    NOT NULL,
	unique_key  TEXT    NOT NULL,
	method      TEXT    NOT NULL DEFAULT 'GET',
	retry_count INTEGER NOT NULL DEFAULT 0,
	json        TEXT    NOT NULL,
	PRIMARY KEY (queue_id, id, unique_key)
);

CREATE INDEX IF NOT EXISTS idx_requests_head
	ON requests (queue_id, order_no)
	WHERE order_no IS NOT NULL;

CREATE TRIGGER IF NOT EXISTS requests_touch_ai AFTER INSERT ON requests BEGIN
	UPDATE queues
	SET modified_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'),
	    accessed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	WHERE id = NEW.queue_id;
END;

CREATE TRIGGER IF NOT EXISTS requests_touch_au AFTER UPDATE ON requests BEGIN
	UPDATE queues
	SET modified_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'),
	    accessed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	WHERE id = NEW.queue_id;
END;

CREATE TRIGGER IF NOT EXISTS requests_touch_ad AFTER DELETE ON requests BEGIN
	UPDATE queues
	SET modified_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'),
	    accessed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	WHERE id = OLD.queue_id;
END;
`
