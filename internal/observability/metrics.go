package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MStockConflicts          MetricKey = "stock_reservation_conflicts_total"
	MBreakerTransitions      MetricKey = "payment_breaker_transitions_total"
	MReconcileRetries        MetricKey = "reconciliation_retries_total"
	MEventPublishFailures    MetricKey = "order_event_publish_failed_total"
)
