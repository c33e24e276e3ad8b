package domain

// KeyPrefix namespaces all raggate keys and indexes in the store.
const KeyPrefix = "raggate:"
