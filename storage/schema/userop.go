package schema

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// StateToStorageKey converts a user operation state to its index prefix
// b: building
// g: signing
// s: sent
// w: waiting for receipt
// c: confirmed
// f: failed
func StateToStorageKey(state string) string {
	switch state {
	case "building":
		return "b"
	case "signing":
		return "g"
	case "sent":
		return "s"
	case "waiting_for_receipt":
		return "w"
	case "confirmed":
		return "c"
	case "failed":
		return "f"
	}
	return "s"
}

// UserOpStorageKey holds the journal record.
func UserOpStorageKey(id string) []byte {
	return []byte(fmt.Sprintf("u:%s", id))
}

// UserOpByHashStorageKey maps a user operation hash to its record id.
func UserOpByHashStorageKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("h:%s", hash.Hex()))
}

// UserOpByStateStorageKey indexes a record under its current state.
func UserOpByStateStorageKey(state, id string) []byte {
	return []byte(fmt.Sprintf("s:%s:%s", StateToStorageKey(state), id))
}

func UserOpByStateStoragePrefix(state string) []byte {
	return []byte(fmt.Sprintf("s:%s:", StateToStorageKey(state)))
}
