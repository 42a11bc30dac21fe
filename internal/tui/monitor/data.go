package monitor

import (
	"time"

	"github.com/calderon/ventasync/internal/store"
)

const (
	sessionFeedLimit = 50
	changeFeedLimit  = 30
)

// FetchData retrieves all data needed for the monitor display. Individual
// query failures surface through RefreshDataMsg.Err; partial data is kept.
func FetchData(st *store.Store) RefreshDataMsg {
	msg := RefreshDataMsg{
		Timestamp: time.Now(),
	}

	devices, err := st.ListDevices()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Devices = devices

	sessions, err := st.ListRecentSessions(sessionFeedLimit)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Sessions = sessions

	conflicts, err := st.ListUnresolvedConflicts()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Conflicts = conflicts

	changes, err := st.TailChanges(changeFeedLimit)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Changes = changes

	total, err := st.CountChanges()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.TotalChanges = total

	return msg
}
