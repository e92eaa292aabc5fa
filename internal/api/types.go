package api

import (
	"github.com/hackgods/govease-queue/internal/token"
)

type CreateTokenRequest struct {
	CenterID   string  `json:"centerId"`
	Department string  `json:"department"`
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Purpose    string  `json:"purpose"`
	CreatedBy  *string `json:"createdBy,omitempty"`
	QRCode     string  `json:"qrCode,omitempty"`
}

func (r CreateTokenRequest) Draft() token.Draft {
	return token.Draft{
		CenterID:   r.CenterID,
		Department: r.Department,
		Name:       r.Name,
		Phone:      r.Phone,
		Purpose:    r.Purpose,
		CreatedBy:  r.CreatedBy,
		QRCode:     r.QRCode,
	}
}

type UpdateStatusRequest struct {
	Status token.Status `json:"status"`
}

type CreateQRCodesRequest struct {
	CenterID string `json:"centerId"`
	Count    int    `json:"count"`
}

type CenterRequest struct {
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	Type        string   `json:"type"`
	Address     string   `json:"address"`
	Departments []string `json:"departments"`
}

// QRResolution is what a scanned code tells the booking form.
type QRResolution struct {
	Code     string `json:"code"`
	CenterID string `json:"centerId"`
	Active   bool   `json:"active"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
