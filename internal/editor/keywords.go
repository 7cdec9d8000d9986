package editor

// SQLKeywords is the keyword vocabulary of the editor's SQL language
// definition. Completion offers these verbatim.
var SQLKeywords = []string{
	"ABORT", "ABSOLUTE", "ACTION", "ADD", "AFTER", "ALL", "ALLOCATE", "ALTER",
	"ALWAYS", "ANALYZE", "AND", "ANY", "ARE", "AS", "ASC", "ASSERTION", "AT",
	"ATTACH", "AUTHORIZATION", "AUTOINCREMENT", "AVG",
	"BACKUP", "BEFORE", "BEGIN", "BETWEEN", "BIGINT", "BINARY", "BIT",
	"BIT_LENGTH", "BOOLEAN", "BOTH", "BREAK", "BROWSE", "BULK", "BY",
	"CASCADE", "CASCADED", "CASE", "CAST", "CATALOG", "CHAR", "CHARACTER",
	"CHARACTER_LENGTH", "CHAR_LENGTH", "CHECK", "CHECKPOINT", "CLOSE",
	"CLUSTERED", "COALESCE", "COLLATE", "COLLATION", "COLUMN", "COMMIT",
	"CONFLICT", "CONNECT", "CONNECTION", "CONSTRAINT", "CONSTRAINTS",
	"CONTINUE", "CONVERT", "CORRESPONDING", "COUNT", "CREATE", "CROSS",
	"CURRENT", "CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP",
	"CURRENT_USER", "CURSOR",
	"DATABASE", "DATE", "DAY", "DEALLOCATE", "DEC", "DECIMAL", "DECLARE",
	"DEFAULT", "DEFERRABLE", "DEFERRED", "DELETE", "DENY", "DESC", "DESCRIBE",
	"DETACH", "DISCONNECT", "DISTINCT", "DO", "DOMAIN", "DOUBLE", "DROP",
	"EACH", "ELSE", "END", "ESCAPE", "EXCEPT", "EXCEPTION", "EXCLUSIVE",
	"EXEC", "EXECUTE", "EXISTS", "EXPLAIN", "EXTERNAL", "EXTRACT",
	"FALSE", "FETCH", "FILTER", "FIRST", "FLOAT", "FOLLOWING", "FOR",
	"FOREIGN", "FROM", "FULL", "FUNCTION",
	"GENERATED", "GLOB", "GLOBAL", "GRANT", "GROUP", "GROUPS",
	"HAVING", "HOUR",
	"IDENTITY", "IF", "IGNORE", "ILIKE", "IMMEDIATE", "IN", "INDEX",
	"INDEXED", "INITIALLY", "INNER", "INSERT", "INSTEAD", "INT", "INTEGER",
	"INTERSECT", "INTERVAL", "INTO", "IS", "ISNULL", "ISOLATION",
	"JOIN", "JSON",
	"KEY",
	"LAST", "LATERAL", "LEADING", "LEFT", "LEVEL", "LIKE", "LIMIT",
	"LOCAL", "LOWER",
	"MATCH", "MATERIALIZED", "MAX", "MIN", "MINUTE", "MONTH",
	"NATURAL", "NO", "NOT", "NOTHING", "NOTNULL", "NULL", "NULLIF",
	"NULLS", "NUMERIC",
	"OF", "OFFSET", "ON", "ONLY", "OPEN", "OPTION", "OR", "ORDER",
	"OTHERS", "OUTER", "OVER", "OVERLAPS",
	"PARTITION", "PLAN", "POSITION", "PRAGMA", "PRECEDING", "PRECISION",
	"PREPARE", "PRIMARY", "PRIOR", "PRIVILEGES", "PROCEDURE", "PUBLIC",
	"RAISE", "RANGE", "READ", "REAL", "RECURSIVE", "REFERENCES", "REINDEX",
	"RELEASE", "RENAME", "REPLACE", "RESTRICT", "RETURNING", "REVOKE",
	"RIGHT", "ROLLBACK", "ROW", "ROWS",
	"SAVEPOINT", "SCHEMA", "SECOND", "SELECT", "SEQUENCE", "SESSION",
	"SESSION_USER", "SET", "SIZE", "SMALLINT", "SOME", "SUBSTRING", "SUM",
	"SYSTEM_USER",
	"TABLE", "TEMP", "TEMPORARY", "TEXT", "THEN", "TIES", "TIME",
	"TIMESTAMP", "TO", "TRAILING", "TRANSACTION", "TRIGGER", "TRIM", "TRUE",
	"TRUNCATE",
	"UNBOUNDED", "UNION", "UNIQUE", "UNKNOWN", "UPDATE", "UPPER", "USAGE",
	"USER", "USING",
	"VACUUM", "VALUES", "VARCHAR", "VARYING", "VIEW", "VIRTUAL",
	"WHEN", "WHERE", "WINDOW", "WITH", "WITHOUT", "WORK", "WRITE",
	"YEAR",
	"ZONE",
}
