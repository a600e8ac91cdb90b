// Package iam authenticates API callers with qci trigger tokens.
package iam

import (
	"github.com/quatton/qci/pkg/qauth"
	"github.com/quatton/qci/pkg/qlog"
)

type IAMService struct {
	signer *qauth.Signer
	logger *qlog.Logger
}

func NewIAMService(signer *qauth.Signer, logger *qlog.Logger) *IAMService {
	if logger == nil {
		logger = qlog.NewDefault()
	}
	return &IAMService{signer: signer, logger: logger}
}

// Signer is exposed so the server can mint tokens with the same secret.
func (s *IAMService) Signer() *qauth.Signer {
	return s.signer
}
