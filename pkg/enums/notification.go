package enums

// NotificationType tells the notification service which template to render.
type NotificationType string

const (
	NotificationTypeOrderUpdate   NotificationType = "order_update"
	NotificationTypePaymentUpdate NotificationType = "payment_update"
	NotificationTypeRefundUpdate  NotificationType = "refund_update"
)

var notificationTypes = []NotificationType{NotificationTypeOrderUpdate, NotificationTypePaymentUpdate, NotificationTypeRefundUpdate}

func (n NotificationType) IsValid() bool { return oneOf(notificationTypes, n) }
