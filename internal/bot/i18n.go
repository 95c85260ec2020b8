package bot

import (
	"fmt"
	"strings"
)

// Lang is a dialog language.
type Lang string

const (
	Uzbek   Lang = "uz"
	Russian Lang = "ru"
)

// ParseLang maps a language reply ("1", "uz", "Русский", ...) to a Lang.
func ParseLang(s string) (Lang, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "uz", "o'zbek", "o‘zbek", "uzbek":
		return Uzbek, true
	case "2", "ru", "русский", "russian":
		return Russian, true
	}
	return "", false
}

// Category is a complaint topic. Label is what the user sees; Value is sent
// to the backend as the ticket substatus.
type Category struct {
	Label string
	Value string
}

// Texts holds every string the dialog sends in one language.
type Texts struct {
	AskName          string
	InvalidName      string
	AskPhone         string
	InvalidPhone     string
	AskCourse        string
	InvalidChoice    string
	AskDirection     string
	InvalidDirection string

	Registered        string
	RegisteredOffline string
	AlreadyRegistered string
	PleaseRegister    string

	Welcome      func(name string) string
	Menu         string
	AskCategory  string
	Categories   []Category
	TicketTypes  map[string]string
	AskText      func(ticketType string) string
	TextEmpty    string
	TextTooShort func(min int) string
	TextTooLong  func(max int) string
	TextSpam     string

	Submitted        func(ticketType, number string) string
	SubmittedOffline func(ticketType, number string) string
	NoTickets        string
	TicketsHeader    string
	TicketStatus     map[string]string

	Help   string
	Errors map[ErrorCategory]string
}

// ChooseLanguage is sent before a language is known, so it carries both.
const ChooseLanguage = "Tilni tanlang / Выберите язык:\n1. O'zbek\n2. Русский"

var texts = map[Lang]*Texts{
	Uzbek: {
		AskName:          "To'liq ismingizni kiriting (masalan: Ali Valiyev):",
		InvalidName:      "Ism noto'g'ri. Kamida ikki so'z, faqat harflar, 50 ta belgigacha. Qaytadan kiriting:",
		AskPhone:         "Telefon raqamingizni kiriting (+998XXXXXXXXX formatida):",
		InvalidPhone:     "Telefon raqam noto'g'ri formatda. +998XXXXXXXXX formatida kiriting:",
		AskCourse:        "Kursingizni tanlang:\n1. 1-kurs\n2. 2-kurs\n3. 3-kurs\n4. 4-kurs",
		InvalidChoice:    "Iltimos, ro'yxatdagi raqamlardan birini yuboring.",
		AskDirection:     "Yo'nalishingizni kiriting (masalan: Dasturiy injiniring):",
		InvalidDirection: "Yo'nalish bo'sh yoki juda uzun. Qaytadan kiriting:",

		Registered:        "Ro'yxatdan o'tish muvaffaqiyatli yakunlandi!",
		RegisteredOffline: "Ma'lumotlaringiz qabul qilindi. Server bilan aloqa tiklanganda ro'yxatdan o'tish yakunlanadi.",
		AlreadyRegistered: "Siz allaqachon ro'yxatdan o'tgansiz.",
		PleaseRegister:    "Ro'yxatdan o'tish uchun /start yuboring.",

		Welcome: func(name string) string {
			return fmt.Sprintf("Hurmatli %s! Fan va texnologiyalar universitetining rasmiy botiga xush kelibsiz. Bu yerda taklif va shikoyatlaringizni yuborishingiz mumkin.", name)
		},
		Menu:        "Quyidagilardan birini tanlang:\n1. Taklif\n2. Shikoyat\n3. Mening murojaatlarim",
		AskCategory: "Shikoyat qaysi mavzuda?",
		Categories: []Category{
			{"Sharoit", "Sharoit"},
			{"Qabul", "Qabul"},
			{"Dars jarayoni", "Dars jarayoni"},
			{"O'qituvchi", "O'qituvchi"},
			{"Tyutor", "Tyutor"},
			{"Dekanat", "Dekanat"},
			{"Boshqa sabab", "Boshqa sabab"},
		},
		TicketTypes: map[string]string{"suggestion": "taklif", "complaint": "shikoyat"},
		AskText: func(ticketType string) string {
			return fmt.Sprintf("%s matnini batafsil yozing (kamida 10 ta belgi):", capitalize(ticketType))
		},
		TextEmpty:    "Matn kiritilmagan.",
		TextTooShort: func(min int) string { return fmt.Sprintf("Xabar juda qisqa. Kamida %d ta belgi kiriting:", min) },
		TextTooLong:  func(max int) string { return fmt.Sprintf("Xabar juda uzun. Maksimal %d ta belgi:", max) },
		TextSpam:     "Matn spam kabi ko'rinmoqda. Iltimos, qaytadan yozing:",

		Submitted: func(ticketType, number string) string {
			return fmt.Sprintf("%s muvaffaqiyatli yuborildi! Raqam: %s\nHolat: ko'rib chiqilmoqda. Javob 24-48 soat ichida beriladi.", capitalize(ticketType), number)
		},
		SubmittedOffline: func(ticketType, number string) string {
			return fmt.Sprintf("%s qabul qilindi (raqam: %s) va server bilan aloqa tiklanganda yuboriladi.", capitalize(ticketType), number)
		},
		NoTickets:     "Sizda hali murojaatlar yo'q.",
		TicketsHeader: "Oxirgi murojaatlaringiz:",
		TicketStatus: map[string]string{
			"pending":         "ko'rib chiqilmoqda",
			"offline_pending": "yuborilishi kutilmoqda",
			"synced":          "yuborilgan",
			"sync_failed":     "yuborilmadi",
		},

		Help: "Bot buyruqlari:\n/start - botni ishga tushirish\n/menu - asosiy menyu\n/help - yordam\n\nBot orqali taklif va shikoyatlaringizni yuborishingiz mumkin. Har bir murojaat universitet ma'muriyati tomonidan ko'rib chiqiladi.",
		Errors: map[ErrorCategory]string{
			ErrTimeout:    "Serverga ulanishda muammo. Iltimos, biroz kuting va qaytadan urinib ko'ring.",
			ErrNetwork:    "Internet aloqasi bilan muammo. Iltimos, qaytadan urinib ko'ring.",
			ErrDuplicate:  "Bu foydalanuvchi allaqachon ro'yxatdan o'tgan.",
			ErrValidation: "Ma'lumotlarda xatolik. Iltimos, to'g'ri ma'lumot kiriting.",
			ErrUnknown:    "Kutilmagan xatolik yuz berdi. Iltimos, qaytadan urinib ko'ring.",
		},
	},
	Russian: {
		AskName:          "Введите полное имя (например: Али Валиев):",
		InvalidName:      "Неверное имя. Не менее двух слов, только буквы, до 50 символов. Введите снова:",
		AskPhone:         "Введите номер телефона (в формате +998XXXXXXXXX):",
		InvalidPhone:     "Неверный формат номера. Введите в формате +998XXXXXXXXX:",
		AskCourse:        "Выберите курс:\n1. 1 курс\n2. 2 курс\n3. 3 курс\n4. 4 курс",
		InvalidChoice:    "Пожалуйста, отправьте один из номеров списка.",
		AskDirection:     "Введите направление (например: Программная инженерия):",
		InvalidDirection: "Направление пустое или слишком длинное. Введите снова:",

		Registered:        "Регистрация успешно завершена!",
		RegisteredOffline: "Ваши данные приняты. Регистрация завершится, когда связь с сервером восстановится.",
		AlreadyRegistered: "Вы уже зарегистрированы.",
		PleaseRegister:    "Для регистрации отправьте /start.",

		Welcome: func(name string) string {
			return fmt.Sprintf("Уважаемый(ая) %s! Добро пожаловать в официальный бот университета науки и технологий. Здесь вы можете отправить свои предложения и жалобы.", name)
		},
		Menu:        "Выберите одно из следующих:\n1. Предложение\n2. Жалоба\n3. Мои обращения",
		AskCategory: "К какой теме относится жалоба?",
		Categories: []Category{
			{"Условия", "Sharoit"},
			{"Приём", "Qabul"},
			{"Учебный процесс", "Dars jarayoni"},
			{"Преподаватель", "O'qituvchi"},
			{"Тьютор", "Tyutor"},
			{"Деканат", "Dekanat"},
			{"Другое", "Boshqa sabab"},
		},
		TicketTypes: map[string]string{"suggestion": "предложение", "complaint": "жалоба"},
		AskText: func(ticketType string) string {
			return fmt.Sprintf("Опишите ваше %s подробно (не менее 10 символов):", ticketType)
		},
		TextEmpty:    "Текст не введён.",
		TextTooShort: func(min int) string { return fmt.Sprintf("Сообщение слишком короткое. Введите не менее %d символов:", min) },
		TextTooLong:  func(max int) string { return fmt.Sprintf("Сообщение слишком длинное. Максимум %d символов:", max) },
		TextSpam:     "Текст похож на спам. Пожалуйста, напишите снова:",

		Submitted: func(ticketType, number string) string {
			return fmt.Sprintf("Ваше %s успешно отправлено! Номер: %s\nСтатус: на рассмотрении. Ответ будет дан в течение 24-48 часов.", ticketType, number)
		},
		SubmittedOffline: func(ticketType, number string) string {
			return fmt.Sprintf("Ваше %s принято (номер: %s) и будет отправлено, когда связь с сервером восстановится.", ticketType, number)
		},
		NoTickets:     "У вас пока нет обращений.",
		TicketsHeader: "Ваши последние обращения:",
		TicketStatus: map[string]string{
			"pending":         "на рассмотрении",
			"offline_pending": "ожидает отправки",
			"synced":          "отправлено",
			"sync_failed":     "не отправлено",
		},

		Help: "Команды бота:\n/start - запустить бота\n/menu - главное меню\n/help - помощь\n\nЧерез бот вы можете отправлять предложения и жалобы. Каждое обращение рассматривается администрацией университета.",
		Errors: map[ErrorCategory]string{
			ErrTimeout:    "Проблема с подключением к серверу. Пожалуйста, подождите и попробуйте снова.",
			ErrNetwork:    "Проблема с соединением. Пожалуйста, попробуйте снова.",
			ErrDuplicate:  "Этот пользователь уже зарегистрирован.",
			ErrValidation: "Ошибка в данных. Пожалуйста, введите правильные данные.",
			ErrUnknown:    "Произошла неожиданная ошибка. Пожалуйста, попробуйте снова.",
		},
	},
}

// T returns the strings for lang, falling back to Uzbek.
func T(lang Lang) *Texts {
	if t, ok := texts[lang]; ok {
		return t
	}
	return texts[Uzbek]
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
