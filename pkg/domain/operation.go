package domain

import "fmt"

// Operation selects which engine transformation runs and which response
// family applies.
type Operation int

const (
	OperationEncrypt Operation = iota
	OperationDecrypt
	OperationQuery
)

var operationNames = map[Operation]string{
	OperationEncrypt: "encrypt",
	OperationDecrypt: "decrypt",
	OperationQuery:   "query",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// Operations lists every operation in route order.
func Operations() []Operation {
	return []Operation{OperationEncrypt, OperationDecrypt, OperationQuery}
}
