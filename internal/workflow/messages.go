package workflow

import "fmt"

// Message is the user-facing copy of a notification.
type Message struct {
	Type  NotificationType
	Title string
	Body  string
}

func DefaultComments(status Status) string {
	if status == StatusApproved {
		return "Documento aprobado"
	}
	return ""
}

func DecisionMessage(status Status, documentTitle, comments string) Message {
	switch status {
	case StatusApproved:
		return Message{
			Type:  NotificationDocumentApproved,
			Title: "Documento Aprobado",
			Body:  fmt.Sprintf("Tu documento \"%s\" ha sido aprobado", documentTitle),
		}
	case StatusRejected:
		body := fmt.Sprintf("Tu documento \"%s\" ha sido rechazado", documentTitle)
		if comments != "" {
			body += ": " + comments
		}
		return Message{Type: NotificationDocumentRejected, Title: "Documento Rechazado", Body: body}
	default:
		body := fmt.Sprintf("Se solicitaron cambios en tu documento \"%s\"", documentTitle)
		if comments != "" {
			body += ": " + comments
		}
		return Message{Type: NotificationChangeRequested, Title: "Cambios Solicitados", Body: body}
	}
}

func UploadMessage(created bool, documentTitle string, versionNumber int, uploaderName string) Message {
	if uploaderName == "" {
		uploaderName = "Un cliente"
	}
	if created {
		return Message{
			Type:  NotificationDocumentUploaded,
			Title: "Nuevo Documento",
			Body:  fmt.Sprintf("%s subió \"%s\" para revisión", uploaderName, documentTitle),
		}
	}
	return Message{
		Type:  NotificationNewVersion,
		Title: "Nueva Versión",
		Body:  fmt.Sprintf("%s subió la versión %d de \"%s\"", uploaderName, versionNumber, documentTitle),
	}
}
