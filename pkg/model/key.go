package model

import "fmt"

func TransferKey(id string) []byte {
	return []byte(fmt.Sprintf("transfer-%s", id))
}

func TransferStatusKey(status TransferStatus, id string) []byte {
	return []byte(fmt.Sprintf("transfer-status-%s-%s", status, id))
}

func TransferChainKey(chainID, id string) []byte {
	return []byte(fmt.Sprintf("transfer-chain-%s-%s", chainID, id))
}

func SwapKey(transferID string) []byte {
	return []byte(fmt.Sprintf("swap-%s", transferID))
}

func ValidationKey(transferID string) []byte {
	return []byte(fmt.Sprintf("validation-%s", transferID))
}

func ValidatorKey(id string) []byte {
	return []byte(fmt.Sprintf("validator-%s", id))
}

func HistoryKey(transferID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("history-%s-%012d", transferID, seq))
}

func HistorySeqKey(transferID string) []byte {
	return []byte(fmt.Sprintf("history-seq-%s", transferID))
}
