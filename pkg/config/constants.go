package config

// EnvPrefix is shared by every envconfig struct in this package.
const EnvPrefix = "souqly"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "SOUQLY_DB_DSN"
	EnvDBHost = "SOUQLY_DB_HOST"
	EnvDBUser = "SOUQLY_DB_USER"
	EnvDBName = "SOUQLY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
