package ir

// EngineVersion is stamped on persisted records so archived state can be
// attributed to the engine build that wrote it.
const EngineVersion = "0.1.0"

// IRVersion identifies the record schema. Bump on incompatible changes to
// canonical serialization or record layout.
const IRVersion = "loom-ir/1"
