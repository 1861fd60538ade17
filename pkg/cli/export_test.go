package cli

var (
	PrintResult    = printResult
	PrintProgress  = printProgress
	GetIndexConfig = getIndexConfig
	NewUseCases    = newUseCases
)
