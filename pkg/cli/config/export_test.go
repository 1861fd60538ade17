package config

// NewLoggerForTest creates a Logger config for testing purposes
func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{level: level, format: format, output: output}
}

// NewLLMForTest creates an LLM config for testing purposes
func NewLLMForTest(backend, geminiProject, openRouterKey string, rateLimit float64) *LLM {
	return &LLM{
		backend:         backend,
		geminiProject:   geminiProject,
		geminiLocation:  "us-central1",
		openRouterKey:   openRouterKey,
		openRouterModel: "test/model",
		rateLimit:       rateLimit,
		rateBurst:       1,
	}
}

// NewSearchForTest creates a Search config for testing purposes
func NewSearchForTest(apiKey, searchEndpoint, readerEndpoint string) *Search {
	return &Search{
		apiKey:         apiKey,
		searchEndpoint: searchEndpoint,
		readerEndpoint: readerEndpoint,
		jurisdiction:   "Colombia",
	}
}

// NewRepositoryForTest creates a Repository config for testing purposes
func NewRepositoryForTest(backend, projectID, postgresDSN string) *Repository {
	return &Repository{backend: backend, projectID: projectID, postgresDSN: postgresDSN}
}

// NewSentryForTest creates a Sentry config for testing purposes
func NewSentryForTest(dsn string) *Sentry {
	return &Sentry{dsn: dsn}
}
