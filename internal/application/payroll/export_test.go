package payroll

// OnDeadLetter exposes the dead-letter hook to external tests
var OnDeadLetter = (*GenerationPipeline).onDeadLetter
