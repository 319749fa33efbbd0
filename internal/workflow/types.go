package workflow

type DocumentType string

const (
	TypeLoanApplication DocumentType = "solicitud_prestamo"
	TypeLoanSettlement  DocumentType = "liquidacion_prestamo"
	TypeGeneralData     DocumentType = "datos_generales"
)

var documentTypeLabels = map[DocumentType]string{
	TypeLoanApplication: "Solicitud de Préstamo",
	TypeLoanSettlement:  "Liquidación de Préstamo",
	TypeGeneralData:     "Datos Generales",
}

func DocumentTypes() []DocumentType {
	return []DocumentType{TypeLoanApplication, TypeLoanSettlement, TypeGeneralData}
}

func ParseDocumentType(raw string) (DocumentType, bool) {
	t := DocumentType(raw)
	_, ok := documentTypeLabels[t]
	return t, ok
}

func (t DocumentType) Label() string {
	if label, ok := documentTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

type NotificationType string

const (
	NotificationDocumentUploaded NotificationType = "document_uploaded"
	NotificationChangeRequested  NotificationType = "change_requested"
	NotificationDocumentApproved NotificationType = "document_approved"
	NotificationDocumentRejected NotificationType = "document_rejected"
	NotificationNewVersion       NotificationType = "new_version"
)
