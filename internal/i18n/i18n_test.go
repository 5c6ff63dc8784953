package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLang(context.Background(), lang)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "OverallScore", map[string]any{"Score": "85.00"})
	if got != "Overall score: 85.00%" {
		t.Errorf("Td(OverallScore) = %q, want 'Overall score: 85.00%%'", got)
	}

	got = Td(ctx, "ResultLine", map[string]any{"Result": "PASS"})
	if got != "Result: PASS" {
		t.Errorf("Td(ResultLine) = %q, want 'Result: PASS'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := Td(ctx, "ResultLine", map[string]any{"Result": "FAIL"})
	if got != "Результат: FAIL" {
		t.Errorf("Td(ResultLine) = %q, want 'Результат: FAIL'", got)
	}

	got = T(ctx, "ErrRunNotFound")
	if got != "Запуск не найден." {
		t.Errorf("T(ErrRunNotFound) = %q, want 'Запуск не найден.'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "BatchEvaluated", 1); got != "1 submission evaluated." {
		t.Errorf("Tp(BatchEvaluated, 1) = %q", got)
	}
	if got := Tp(ctx, "BatchEvaluated", 5); got != "5 submissions evaluated." {
		t.Errorf("Tp(BatchEvaluated, 5) = %q", got)
	}

	ru := initLang(t, "ru")
	tests := []struct {
		count int
		want  string
	}{
		{1, "Проверено 1 решение."},
		{3, "Проверено 3 решения."},
		{11, "Проверено 11 решений."},
		{21, "Проверено 21 решение."},
	}
	for _, tt := range tests {
		if got := Tp(ru, "BatchEvaluated", tt.count); got != tt.want {
			t.Errorf("Tp(BatchEvaluated, %d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestContextWithoutLocalizer(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got := Td(context.Background(), "ResultLine", map[string]any{"Result": "PASS"})
	if got != "Result: PASS" {
		t.Errorf("Td without localizer = %q, want English", got)
	}
}

func TestLanguages(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	langs := Languages()
	for _, want := range []string{"en", "ru"} {
		if !slices.Contains(langs, want) {
			t.Errorf("Languages() = %v, missing %q", langs, want)
		}
	}
}

func TestInitRejectsBadTag(t *testing.T) {
	if err := Init("not a language!"); err == nil {
		t.Error("Init with an invalid tag succeeded")
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(T(r.Context(), "ErrRunNotFound")))
	}))

	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{"default", "/", "", "Run not found."},
		{"header", "/", "ru-RU,ru;q=0.9", "Запуск не найден."},
		{"query wins", "/?lang=en", "ru", "Run not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}
