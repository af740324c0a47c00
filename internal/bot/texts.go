package bot

// texts holds the localized core replies. Handler bodies outside this set
// answer in English.
type texts struct {
	welcome          string
	helpTitle        string
	availableCmds    string
	examples         string
	unknownCommand   string // %s name, %s prefix
	invalidFormat    string // %s prefix
	processingError  string
	storeError       string
	tryLater         string
	timeout          string
	rateLimited      string
	notFound         string
	autoReplyOn      string
	autoReplyOff     string
	defaultAutoReply string
	defaultBusy      string
	reminderSet      string // %s time, %s text, %d id
	taskAdded        string // %s task
	noTasks          string
	languageSet      string
}

var catalog = map[string]texts{
	"en": {
		welcome:          "👋 Welcome to WhatsBotX! I'm your personal assistant.",
		helpTitle:        "🤖 *WhatsBotX Assistant*",
		availableCmds:    "📱 Available Commands:",
		examples:         "💡 Examples:",
		unknownCommand:   "❌ Unknown command: %s\n\nType %shelp to see available commands.",
		invalidFormat:    "❌ Invalid command format. Use %shelp for available commands.",
		processingError:  "❌ Sorry, I encountered an error processing your command.",
		storeError:       "❌ Database error. Please try again in a moment.",
		tryLater:         "❌ I'm not connected right now. Please try again later.",
		timeout:          "⌛ That took too long. Please try again.",
		rateLimited:      "❌ Too many requests. Please wait a moment before using this command again.",
		notFound:         "❌ Not found.",
		autoReplyOn:      "✅ Auto-reply enabled! I will automatically reply to all messages.",
		autoReplyOff:     "❌ Auto-reply disabled.",
		defaultAutoReply: "🤖 Auto-reply: I'm currently unavailable. I'll get back to you soon!",
		defaultBusy:      "🔕 I'm currently busy and will reply later. Thanks for understanding!",
		reminderSet:      "⏰ Reminder set for %s: \"%s\"\n\n📝 Reminder ID: %d",
		taskAdded:        "✅ Added todo: \"%s\"",
		noTasks:          "📋 Your todo list is empty!",
		languageSet:      "✅ Language changed to English. I will now respond in English.",
	},
	"hi": {
		welcome:          "👋 WhatsBotX में आपका स्वागत है! मैं आपका व्यक्तिगत सहायक हूं।",
		helpTitle:        "🤖 *WhatsBotX सहायक*",
		availableCmds:    "📱 उपलब्ध कमांड:",
		examples:         "💡 उदाहरण:",
		unknownCommand:   "❌ अज्ञात कमांड: %s\n\nउपलब्ध कमांड देखने के लिए %shelp लिखें।",
		invalidFormat:    "❌ अमान्य कमांड। उपलब्ध कमांड के लिए %shelp लिखें।",
		processingError:  "❌ माफ करें, आपके कमांड को प्रोसेस करने में त्रुटि हुई।",
		storeError:       "❌ डेटाबेस त्रुटि। कृपया थोड़ी देर बाद प्रयास करें।",
		tryLater:         "❌ अभी कनेक्शन उपलब्ध नहीं है। कृपया बाद में प्रयास करें।",
		timeout:          "⌛ बहुत समय लग गया। कृपया फिर से प्रयास करें।",
		rateLimited:      "❌ बहुत सारे अनुरोध। कृपया थोड़ा रुककर फिर प्रयास करें।",
		notFound:         "❌ नहीं मिला।",
		autoReplyOn:      "✅ ऑटो-रिप्लाई चालू",
		autoReplyOff:     "❌ ऑटो-रिप्लाई बंद",
		defaultAutoReply: "🤖 ऑटो-रिप्लाई: मैं अभी उपलब्ध नहीं हूं। जल्द ही जवाब दूंगा!",
		defaultBusy:      "🔕 मैं अभी व्यस्त हूं, बाद में जवाब दूंगा। धन्यवाद!",
		reminderSet:      "⏰ रिमाइंडर सेट: %s: \"%s\"\n\n📝 रिमाइंडर ID: %d",
		taskAdded:        "✅ कार्य आपकी टूडू सूची में जोड़ दिया गया: \"%s\"",
		noTasks:          "📋 आपकी टूडू सूची खाली है!",
		languageSet:      "✅ भाषा हिंदी में बदल दी गई। अब मैं हिंदी में जवाब दूंगा।",
	},
}

func textsFor(lang string) texts {
	if t, ok := catalog[lang]; ok {
		return t
	}
	return catalog["en"]
}

var jokes = []string{
	"Why don't scientists trust atoms? Because they make up everything!",
	"Why did the math book look so sad? Because it was full of problems!",
	"What do you call a fake noodle? An Impasta!",
	"Why don't eggs tell jokes? They'd crack each other up!",
	"What do you call a sleeping bull? A bulldozer!",
	"Why did the scarecrow win an award? He was outstanding in his field!",
}

var quotes = []string{
	"The only way to do great work is to love what you do. - Steve Jobs",
	"Innovation distinguishes between a leader and a follower. - Steve Jobs",
	"Life is what happens to you while you're busy making other plans. - John Lennon",
	"The future belongs to those who believe in the beauty of their dreams. - Eleanor Roosevelt",
	"It is during our darkest moments that we must focus to see the light. - Aristotle",
	"Success is not final, failure is not fatal: it is the courage to continue that counts. - Winston Churchill",
}

var facts = []string{
	"🧠 The human brain contains approximately 86 billion neurons.",
	"🌊 The Pacific Ocean is larger than all land masses combined.",
	"🍯 Honey never spoils - archaeologists have found 3000-year-old honey that's still edible.",
	"🐙 Octopuses have three hearts and blue blood.",
	"🌙 The Moon is gradually moving away from Earth at 3.8 cm per year.",
	"🦈 Sharks have been around longer than trees - about 400 million years.",
	"🐜 Ants can lift 10-50 times their own body weight.",
}
