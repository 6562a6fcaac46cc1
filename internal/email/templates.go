package email

import (
	"fmt"
	"strings"
	"time"
)

// OrderItem represents an item in an order for email purposes
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	Price     int64
}

const bodyStyle = `font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;`

// BuildOrderConfirmationBody builds the HTML body for order confirmation email
func BuildOrderConfirmationBody(orderID string, total int64, items []OrderItem) string {
	var itemsHTML strings.Builder
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		itemsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">¥%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">¥%s</td>
			</tr>`,
			name,
			item.Quantity,
			formatNumber(item.Price),
			formatNumber(item.Price*int64(item.Quantity)),
		))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="%s">
	<h1 style="font-size: 22px;">ご注文ありがとうございます</h1>
	<p>この度はご注文いただき、誠にありがとうございます。</p>
	<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
		<p style="margin: 0; font-size: 14px; color: #666;">注文番号</p>
		<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
	</div>
	<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
		<thead>
			<tr style="background: #f8f9fa;">
				<th style="padding: 12px; text-align: left;">商品名</th>
				<th style="padding: 12px; text-align: center;">数量</th>
				<th style="padding: 12px; text-align: right;">単価</th>
				<th style="padding: 12px; text-align: right;">小計</th>
			</tr>
		</thead>
		<tbody>
			%s
		</tbody>
	</table>
	<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
		<span style="font-size: 14px; color: #666;">合計金額（送料・税込）</span>
		<span style="font-size: 24px; font-weight: bold; margin-left: 10px;">¥%s</span>
	</div>
	<p style="font-size: 12px; color: #999;">このメールは自動送信されています。</p>
</body>
</html>`, bodyStyle, orderID, itemsHTML.String(), formatNumber(total))
}

// BuildStatusUpdateBody builds the HTML body for an order status change
func BuildStatusUpdateBody(orderID, status string) string {
	label := statusLabel(status)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="%s">
	<h1 style="font-size: 22px;">ご注文状況のお知らせ</h1>
	<p>注文番号 <strong style="font-family: monospace;">%s</strong> の状況が「%s」に更新されました。</p>
	<p style="font-size: 12px; color: #999;">このメールは自動送信されています。</p>
</body>
</html>`, bodyStyle, orderID, label)
}

// BuildWarrantyIssuedBody builds the HTML body for a warranty registration
func BuildWarrantyIssuedBody(serial string, expiresAt time.Time) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="%s">
	<h1 style="font-size: 22px;">製品保証登録のお知らせ</h1>
	<p>製品保証が登録されました。</p>
	<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
		<p style="margin: 0; font-size: 14px; color: #666;">保証番号</p>
		<p style="margin: 5px 0 0 0; font-weight: bold; font-family: monospace;">%s</p>
		<p style="margin: 10px 0 0 0; font-size: 14px; color: #666;">保証期限</p>
		<p style="margin: 5px 0 0 0; font-weight: bold;">%s</p>
	</div>
	<p style="font-size: 12px; color: #999;">このメールは自動送信されています。</p>
</body>
</html>`, bodyStyle, serial, expiresAt.Format("2006年01月02日"))
}

// BuildClaimUpdateBody builds the HTML body for a claim status change
func BuildClaimUpdateBody(claimID, status, notes string) string {
	notesHTML := ""
	if notes != "" {
		notesHTML = fmt.Sprintf(`<p style="background: #f8f9fa; padding: 15px; border-radius: 5px;">%s</p>`, notes)
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="%s">
	<h1 style="font-size: 22px;">保証申請状況のお知らせ</h1>
	<p>申請番号 <strong style="font-family: monospace;">%s</strong> の状況が「%s」に更新されました。</p>
	%s
	<p style="font-size: 12px; color: #999;">このメールは自動送信されています。</p>
</body>
</html>`, bodyStyle, claimID, claimStatusLabel(status), notesHTML)
}

// BuildExpiryReminderBody builds the HTML body for a warranty expiry reminder
func BuildExpiryReminderBody(serial string, expiresAt time.Time) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="%s">
	<h1 style="font-size: 22px;">保証期限のお知らせ</h1>
	<p>保証番号 <strong style="font-family: monospace;">%s</strong> の保証期限（%s）が近づいています。</p>
	<p style="font-size: 12px; color: #999;">このメールは自動送信されています。</p>
</body>
</html>`, bodyStyle, serial, expiresAt.Format("2006年01月02日"))
}

func statusLabel(status string) string {
	switch status {
	case "confirmed":
		return "注文確定"
	case "shipped":
		return "発送済み"
	case "delivered":
		return "配達完了"
	case "cancelled":
		return "キャンセル"
	default:
		return status
	}
}

func claimStatusLabel(status string) string {
	switch status {
	case "pending":
		return "受付中"
	case "approved":
		return "承認"
	case "rejected":
		return "却下"
	case "resolved":
		return "対応完了"
	default:
		return status
	}
}

// formatNumber formats a number with comma separators
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		if len(str) > remainder {
			result.WriteString(",")
		}
	}

	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}

	return result.String()
}
