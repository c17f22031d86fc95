package db

import "time"

// Column names of the deeds table, accepted by GetByFilter, UpdateWhere and
// GetMaxColumnValue.
const (
	ColumnID         = "id"
	ColumnOwnerID    = "owner_id"
	ColumnName       = "name"
	ColumnCreateTime = "create_time"
	ColumnNotifyTime = "notify_time"
	ColumnDoneFlag   = "done_flag"
)

var knownColumns = map[string]bool{
	ColumnID:         true,
	ColumnOwnerID:    true,
	ColumnName:       true,
	ColumnCreateTime: true,
	ColumnNotifyTime: true,
	ColumnDoneFlag:   true,
}

type Deed struct {
	ID         int64
	OwnerID    int64      // Telegram user ID
	Name       string     // deed text
	CreateTime time.Time  // set once at insertion
	NotifyTime *time.Time // nil means no notification scheduled
	DoneFlag   bool
}
