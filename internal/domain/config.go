package domain

// KeyPrefix is the default namespace for every key this service writes to Redis.
const KeyPrefix = "listsync:"
