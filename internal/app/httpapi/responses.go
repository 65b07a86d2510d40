package httpapi

import (
	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	myptssvc "github.com/mypts-network/ledger/internal/app/services/mypts"
)

type operationResponse struct {
	Transaction transaction.Transaction `json:"transaction"`
	NewBalance  int64                   `json:"new_balance"`
}

type buyOperationResponse struct {
	operationResponse
	ClientSecret   string `json:"client_secret,omitempty"`
	RequiresAction bool   `json:"requires_action"`
}

func resultResponse(res myptssvc.Result) operationResponse {
	return operationResponse{Transaction: res.Transaction, NewBalance: res.NewBalance}
}

func buyResponse(res myptssvc.BuyResult) buyOperationResponse {
	return buyOperationResponse{
		operationResponse: resultResponse(res.Result),
		ClientSecret:      res.ClientSecret,
		RequiresAction:    res.RequiresAction,
	}
}
