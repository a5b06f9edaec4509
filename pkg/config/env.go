package config

const (
	EnvPrefix = "COINMARKET"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv   = "COINMARKET_APP_ENV"
	EnvPort     = "COINMARKET_APP_PORT"
	EnvDBDSN    = "COINMARKET_DB_DSN"
	EnvDBDriver = "COINMARKET_DB_DRIVER"
	EnvDBHost   = "COINMARKET_DB_HOST"
	EnvDBUser   = "COINMARKET_DB_USER"
	EnvDBName   = "COINMARKET_DB_NAME"

	EnvRedisURL  = "COINMARKET_REDIS_URL"
	EnvJWTSecret = "COINMARKET_JWT_SECRET"
	EnvJWTIssuer = "COINMARKET_JWT_ISSUER"

	EnvAsaasAPIKey       = "COINMARKET_ASAAS_API_KEY"
	EnvAsaasWebhookToken = "COINMARKET_ASAAS_WEBHOOK_TOKEN"

	EnvPlatformAccountID  = "COINMARKET_PLATFORM_ACCOUNT_ID"
	EnvWithdrawalFeeBPS   = "COINMARKET_WITHDRAWAL_FEE_BPS"
	EnvMinDepositCents    = "COINMARKET_MIN_DEPOSIT_CENTS"
	EnvMinWithdrawalCents = "COINMARKET_MIN_WITHDRAWAL_CENTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
