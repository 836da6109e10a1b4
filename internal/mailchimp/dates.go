package mailchimp

import "time"

// DateLayout 是 Mailchimp 日期型合并字段的文本格式。
const DateLayout = "2006-01-02"

// ParseDate 解析合并字段中的日期文本。
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate 把时间格式化为合并字段的日期文本。
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// TodayPacific 返回太平洋时区的当前日期（零点）。
// 会员业务的入会与到期日期按俱乐部所在地的本地日历计算。
func TodayPacific() time.Time {
	loc, err := time.LoadLocation("America/Vancouver")
	if err != nil {
		loc = time.FixedZone("PST", -8*3600)
	}
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
}

// AddYear 返回一年之后的同月同日。
// 闰年 2 月 29 日顺延到 3 月 1 日，避免 time.AddDate 的归一化
// 在不同起点上产生不一致的结果。
func AddYear(t time.Time) time.Time {
	if t.Month() == time.February && t.Day() == 29 {
		return time.Date(t.Year()+1, time.March, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	}
	return time.Date(t.Year()+1, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// ExtendExpiry 计算续费后的到期日期：今天起一年与既有到期日中的较晚者。
// 提前续费在既有会籍上顺延，过期续费从今天重新起算。
func ExtendExpiry(today time.Time, existing string) time.Time {
	next := AddYear(today)
	if existing == "" {
		return next
	}
	current, err := ParseDate(existing)
	if err != nil {
		return next
	}
	if extended := AddYear(current); extended.After(next) {
		return extended
	}
	return next
}
