package config

const EnvPrefix = "AGROMART"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	PayHereEnvSandbox = "sandbox"
	PayHereEnvLive    = "live"
)

const (
	EnvAppEnv   = "AGROMART_APP_ENV"
	EnvPort     = "AGROMART_APP_PORT"
	EnvLogLevel = "AGROMART_LOG_LEVEL"

	EnvDBDSN  = "AGROMART_DB_DSN"
	EnvDBHost = "AGROMART_DB_HOST"
	EnvDBUser = "AGROMART_DB_USER"
	EnvDBName = "AGROMART_DB_NAME"

	EnvRedisURL = "AGROMART_REDIS_URL"

	EnvJWTSecret  = "AGROMART_JWT_SECRET"
	EnvJWTIssuer  = "AGROMART_JWT_ISSUER"
	EnvJWTExpMins = "AGROMART_JWT_EXPIRATION_MINUTES"

	EnvPayHereMerchantID     = "AGROMART_PAYHERE_MERCHANT_ID"
	EnvPayHereMerchantSecret = "AGROMART_PAYHERE_MERCHANT_SECRET"
	EnvPayHereNotifyURL      = "AGROMART_PAYHERE_NOTIFY_URL"
	EnvPayHereSandbox        = "AGROMART_PAYHERE_SANDBOX"

	EnvCardVaultKey = "AGROMART_CARD_VAULT_KEY"

	EnvGCPProjectID = "AGROMART_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
