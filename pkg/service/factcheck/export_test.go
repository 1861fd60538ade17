package factcheck

var (
	BuildFactCheckPrompt    = buildFactCheckPrompt
	BuildConservativePrompt = buildConservativePrompt
	BuildCorpus             = buildCorpus
)
