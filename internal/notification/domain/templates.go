package domain

// builtinTemplates are used when email_templates has no active override.
var builtinTemplates = map[string]Template{
	TemplateUsageLimitApproaching: {
		Name:    TemplateUsageLimitApproaching,
		Subject: "Usage Limit Warning - {{system_name}}",
		BodyHTML: `<h2>Usage Limit Warning</h2>
<p>Your usage for <strong>{{metric}}</strong> in <strong>{{system_name}}</strong> has reached {{percent_used}}% of the limit.</p>
<p>Current Usage: {{current_usage}} / {{limit_value}}</p>
<p>Please consider upgrading your plan or contact support.</p>`,
		BodyText: "Your usage for {{metric}} in {{system_name}} has reached {{percent_used}}% of the limit ({{current_usage}} / {{limit_value}}).",
	},
	TemplateUsageLimitExceeded: {
		Name:    TemplateUsageLimitExceeded,
		Subject: "Usage Limit Exceeded - {{system_name}}",
		BodyHTML: `<h2>Usage Limit Exceeded</h2>
<p>Your usage for <strong>{{metric}}</strong> in <strong>{{system_name}}</strong> has exceeded {{percent_used}}% of the limit.</p>
<p>Current Usage: {{current_usage}} / {{limit_value}}</p>
<p>Please consider upgrading your plan or contact support.</p>`,
		BodyText: "Your usage for {{metric}} in {{system_name}} has exceeded the limit ({{current_usage}} / {{limit_value}}).",
	},
	TemplateSecurityAlert: {
		Name:    TemplateSecurityAlert,
		Subject: "[{{severity}}] Security alert: {{alert_type}}",
		BodyHTML: `<h2>Security Alert</h2>
<p>Type: <strong>{{alert_type}}</strong> ({{severity}})</p>
<p>Subscription: {{subscription_id}}</p>
<p>Device: {{device_fingerprint}} from {{ip_address}}</p>
<p>{{summary}}</p>`,
		BodyText: "Security alert {{alert_type}} ({{severity}}) for subscription {{subscription_id}}: {{summary}}",
	},
	TemplateDeviceApproved: {
		Name:    TemplateDeviceApproved,
		Subject: "Device approved - {{system_name}}",
		BodyHTML: `<h2>Device Approved</h2>
<p>The device <strong>{{device_name}}</strong> has been approved for {{system_name}}.</p>`,
		BodyText: "The device {{device_name}} has been approved for {{system_name}}.",
	},
	TemplateDeviceRejected: {
		Name:    TemplateDeviceRejected,
		Subject: "Device activation rejected - {{system_name}}",
		BodyHTML: `<h2>Device Activation Rejected</h2>
<p>The activation request for <strong>{{device_name}}</strong> on {{system_name}} was rejected.</p>
<p>Reason: {{reason}}</p>`,
		BodyText: "The activation request for {{device_name}} on {{system_name}} was rejected. Reason: {{reason}}",
	},
}

// BuiltinTemplate returns the default template for name.
func BuiltinTemplate(name string) (Template, bool) {
	tmpl, ok := builtinTemplates[name]
	return tmpl, ok
}
