//go:build cgo

package main

/*
#cgo CFLAGS: -Wall -Wextra
#cgo LDFLAGS: -shared
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"unsafe"
)

// jsonResult converts a bridge result into a caller-owned C string, or nil
// with the last error set.
func jsonResult(data []byte, err error) *C.char {
	if err != nil {
		setLastError(errorMessage(err))
		return nil
	}
	return C.CString(string(data))
}

// status converts err into 0 on success, 1 with the last error set.
func status(err error) int32 {
	if err != nil {
		setLastError(errorMessage(err))
		return 1
	}
	return 0
}

//export MatchdayInit
// MatchdayInit opens local storage in dataDir and connects to the backend.
// Returns 0 on success, non-zero on error.
func MatchdayInit(dataDir, remoteURL, apiKey *C.char) int32 {
	return status(core.init(C.GoString(dataDir), C.GoString(remoteURL), C.GoString(apiKey)))
}

//export MatchdayClose
// MatchdayClose releases storage. Init may be called again afterwards.
func MatchdayClose() int32 {
	return status(core.close())
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	return C.CString(getLastError())
}

// =====================================================
// Connectivity
// =====================================================

//export MatchdaySetConnectivity
// MatchdaySetConnectivity reports the platform network state. reachable is
// 1, 0, or -1 when unknown. Returns 1 when online, 0 when offline, -1 on
// error.
func MatchdaySetConnectivity(connected, reachable int32) int32 {
	online, err := core.setConnectivity(connected != 0, int(reachable))
	if err != nil {
		setLastError(errorMessage(err))
		return -1
	}
	if online {
		return 1
	}
	return 0
}

// =====================================================
// Data Operations
// =====================================================

//export MatchdaySaveData
// MatchdaySaveData writes a record of table with operation INSERT, UPDATE or
// DELETE. Returns JSON string that must be freed by the caller.
func MatchdaySaveData(table, operation, recordJSON *C.char) *C.char {
	return jsonResult(core.saveData(C.GoString(table), C.GoString(operation), C.GoString(recordJSON)))
}

//export MatchdayGetAll
// MatchdayGetAll lists the local records of table.
// Returns JSON array that must be freed by the caller.
func MatchdayGetAll(table *C.char) *C.char {
	return jsonResult(core.getAll(C.GoString(table)))
}

//export MatchdayDownload
// MatchdayDownload replaces local data with the user's remote data.
// Returns JSON string that must be freed by the caller.
func MatchdayDownload(userID *C.char, admin int32) *C.char {
	return jsonResult(core.download(C.GoString(userID), admin != 0))
}

// =====================================================
// Live Match
// =====================================================

//export MatchdayRecordEvent
// MatchdayRecordEvent registers a live-match event.
// Returns JSON string that must be freed by the caller.
func MatchdayRecordEvent(eventJSON *C.char) *C.char {
	return jsonResult(core.recordEvent(C.GoString(eventJSON)))
}

//export MatchdayUpdateMatchState
// MatchdayUpdateMatchState records a clock/state change for a match.
// Returns JSON string that must be freed by the caller.
func MatchdayUpdateMatchState(matchID, patchJSON *C.char) *C.char {
	return jsonResult(core.updateMatchState(C.GoString(matchID), C.GoString(patchJSON)))
}

// =====================================================
// Sync
// =====================================================

//export MatchdaySyncAll
// MatchdaySyncAll drains every pending write.
// Returns JSON string that must be freed by the caller.
func MatchdaySyncAll() *C.char {
	return jsonResult(core.syncAll())
}

//export MatchdayPendingCount
// MatchdayPendingCount returns the number of unconfirmed writes, or -1 before
// init.
func MatchdayPendingCount() int32 {
	return int32(core.pendingCount())
}

//export MatchdayLogout
// MatchdayLogout erases all local data.
func MatchdayLogout() int32 {
	return status(core.logout())
}

// =====================================================
// Memory Management Helpers
// =====================================================

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}
