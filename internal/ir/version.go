package ir

// Version constants for the data model and engine.
const (
	// IRVersion is the record schema version carried in exports.
	IRVersion = "1"

	// EngineVersion is the privlog engine version.
	EngineVersion = "0.1.0"
)
