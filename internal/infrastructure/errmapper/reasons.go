package errmapper

// Error reasons carried by Kratos errors across the service.
const (
	ReasonValidationInvalidFormat = "VALIDATION_INVALID_FORMAT"
	ReasonValidationInvalidInput  = "VALIDATION_INVALID_INPUT"
	ReasonExternalAIModelFailed   = "EXTERNAL_AI_MODEL_FAILED"
	ReasonTranscriptionEmpty      = "TRANSCRIPTION_EMPTY"
	ReasonInfraTimeout            = "INFRA_TIMEOUT"
	ReasonInfraUnavailable        = "INFRA_UNAVAILABLE"
	ReasonInfraInternal           = "INFRA_INTERNAL"
	ReasonServerConfiguration     = "SERVER_CONFIGURATION_ERROR"
	ReasonJobNotFound             = "TRANSCRIPTION_JOB_NOT_FOUND"
)

// HTTP codes used for classified infrastructure failures.
const (
	CodeBadGateway         = 502
	CodeServiceUnavailable = 503
	CodeGatewayTimeout     = 504
)
