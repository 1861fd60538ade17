package authority

var (
	BuildHierarchyPrompt = buildHierarchyPrompt
	ParseTypeLabel       = parseTypeLabel
)
