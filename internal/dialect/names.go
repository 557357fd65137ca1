package dialect

import (
	"fmt"
	"hash/fnv"
	"unicode/utf8"
)

// Ledger column names. The ledger shape is fixed across engines.
const (
	LedgerID        = "id"
	LedgerUser      = "user"
	LedgerUpSQL     = "up_sql"
	LedgerDownSQL   = "down_sql"
	LedgerModTable  = "mod_table"
	LedgerCreatedAt = "created_at"
)

// DefaultLedgerTable is the ledger table name used when none is configured.
const DefaultLedgerTable = "db_log"

// suffixRoom is reserved at the end of every trigger name for the staging
// and function suffixes.
const suffixRoom = 4

// TriggerName returns the trigger name for table and event:
// {table}_log_after_{event}. Names that would exceed maxLen are truncated
// and disambiguated with a short hash of the full name.
func TriggerName(table string, event Event, maxLen int) string {
	name := fmt.Sprintf("%s_log_after_%s", table, event)
	if maxLen <= 0 {
		return name
	}
	return fit(name, maxLen-suffixRoom)
}

// StagingName returns the name of the staging twin of a trigger.
func StagingName(trigger string, maxLen int) string {
	return fitSuffix(trigger, "_stg", maxLen)
}

// FunctionName returns the name of the trigger function backing a trigger
// on engines that separate the two.
func FunctionName(trigger string, maxLen int) string {
	return fitSuffix(trigger, "_fn", maxLen)
}

func fitSuffix(name, suffix string, maxLen int) string {
	if maxLen <= 0 {
		return name + suffix
	}
	return fit(name, maxLen-len(suffix)) + suffix
}

func fit(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	tag := fmt.Sprintf("_%08x", h.Sum32())
	cut := limit - len(tag)
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut] + tag
}
