package config

const (
	EnvPrefix = "TRUSTLEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	PersistenceMemory = "memory"
	PersistenceDB     = "db"

	AnchorModeSimulated = "simulated"
	AnchorModeHTTP      = "http"

	EnvAppEnv      = "TRUSTLEDGER_APP_ENV"
	EnvPort        = "TRUSTLEDGER_APP_PORT"
	EnvPersistence = "TRUSTLEDGER_PERSISTENCE"
	EnvUseSQLite   = "TRUSTLEDGER_USE_SQLITE"
	EnvSQLitePath  = "TRUSTLEDGER_SQLITE_PATH"
	EnvDBDSN       = "TRUSTLEDGER_DB_DSN"
	EnvDBHost      = "TRUSTLEDGER_DB_HOST"
	EnvDBUser      = "TRUSTLEDGER_DB_USER"
	EnvDBName      = "TRUSTLEDGER_DB_NAME"
	EnvRedisURL    = "TRUSTLEDGER_REDIS_URL"
	EnvJWTSecret   = "TRUSTLEDGER_JWT_SECRET"
	EnvMaxAttempts = "TRUSTLEDGER_OUTBOX_MAX_ATTEMPTS"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
